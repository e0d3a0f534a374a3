// Package club implements the membership features: dues tracking and
// polls.
//
// Dues are tracked per member as a paid-through month ("YYYY-MM"). A
// member is paid up when that month is not before the current one.
// Recording a payment of N months extends from whichever is later, the
// month already covered or the month before the current one, so a lapsed
// member paying one month covers the current month.
//
// Polls are stored with their options and one vote per member; voting
// again replaces the earlier choice. Polls with a deadline are closed by
// a scheduled sweep that announces the result in the poll's channel.
package club
