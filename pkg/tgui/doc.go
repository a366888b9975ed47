// Package tgui holds small helpers for Telegram HTML messages: escaped
// fragments, rune-safe truncation and list paging.
package tgui
