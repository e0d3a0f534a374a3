// Package roster maintains the club member list.
//
// Membership is mastered in a spreadsheet the committee edits; the bot
// consumes a CSV export of it through a Source and mirrors the rows into
// storage. Sync only upserts: members who leave the sheet keep their row
// (and their dues history) until an operator removes them.
//
// The package also resolves which guild members hold an admin role, with
// a short TTL cache in front of the chat platform's member listing. The
// security engine uses that lookup to pick escalation recipients.
package roster
