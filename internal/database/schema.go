package database

// Timestamps are unix milliseconds in both dialects.

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS users (
    user_id BIGINT PRIMARY KEY,
    username VARCHAR(255),
    first_name VARCHAR(255),
    last_name VARCHAR(255),
    credits INT NOT NULL DEFAULT 0,
    total_spent_stars INT NOT NULL DEFAULT 0,
    last_result_url TEXT,
    referred_by BIGINT NULL,
    joined_at BIGINT NOT NULL,
    last_active_at BIGINT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS prompts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    title VARCHAR(255),
    text TEXT NOT NULL,
    message_id BIGINT,
    created_at BIGINT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    engine VARCHAR(32) NOT NULL,
    prompt TEXT NOT NULL,
    aspect_ratio VARCHAR(32),
    task_id VARCHAR(128),
    status VARCHAR(16) NOT NULL,
    result_url TEXT,
    created_at BIGINT NOT NULL,
    INDEX idx_generations_user (user_id, id),
    FOREIGN KEY (user_id) REFERENCES users(user_id)
)`, `
CREATE TABLE IF NOT EXISTS purchases (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    payload VARCHAR(255),
    stars INT NOT NULL DEFAULT 0,
    credits_added INT NOT NULL DEFAULT 0,
    telegram_charge_id VARCHAR(255),
    created_at BIGINT NOT NULL,
    UNIQUE KEY uniq_purchase_charge (telegram_charge_id),
    FOREIGN KEY (user_id) REFERENCES users(user_id)
)`, `
CREATE TABLE IF NOT EXISTS referrals (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    referrer_id BIGINT NOT NULL,
    referred_id BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE KEY uniq_referral_pair (referrer_id, referred_id)
)`, `
CREATE TABLE IF NOT EXISTS packs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(32) NOT NULL UNIQUE,
    title VARCHAR(255) NOT NULL,
    description VARCHAR(255),
    credits INT NOT NULL,
    stars INT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at BIGINT NOT NULL
)`,
}

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS users (
    user_id INTEGER PRIMARY KEY,
    username TEXT,
    first_name TEXT,
    last_name TEXT,
    credits INTEGER NOT NULL DEFAULT 0,
    total_spent_stars INTEGER NOT NULL DEFAULT 0,
    last_result_url TEXT,
    referred_by INTEGER,
    joined_at INTEGER NOT NULL,
    last_active_at INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS prompts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT,
    text TEXT NOT NULL,
    message_id INTEGER,
    created_at INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    engine TEXT NOT NULL,
    prompt TEXT NOT NULL,
    aspect_ratio TEXT,
    task_id TEXT,
    status TEXT NOT NULL,
    result_url TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(user_id)
)`, `
CREATE INDEX IF NOT EXISTS idx_generations_user ON generations(user_id, id)`, `
CREATE TABLE IF NOT EXISTS purchases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    payload TEXT,
    stars INTEGER NOT NULL DEFAULT 0,
    credits_added INTEGER NOT NULL DEFAULT 0,
    telegram_charge_id TEXT UNIQUE,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(user_id)
)`, `
CREATE TABLE IF NOT EXISTS referrals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    referrer_id INTEGER NOT NULL,
    referred_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (referrer_id, referred_id)
)`, `
CREATE TABLE IF NOT EXISTS packs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    description TEXT,
    credits INTEGER NOT NULL,
    stars INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
)`,
}
