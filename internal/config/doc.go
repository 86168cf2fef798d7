// Package config provides configuration loading and validation for the voice bot.
// It reads YAML on top of built-in defaults, loads .env files and lets the
// environment override secrets such as the Telegram token.
package config
