package storage

// Package storage provides the sqlite persistence layer used by the bot.
//
// It currently holds:
//   - Security events (append + filtered reads + retention deletes)
//   - The member roster (dues tracking included)
//   - Polls and votes
//   - Notifier dedup state (to survive restarts)
