// Package registry tracks the set of users who have ever interacted with
// the bot.
//
// The set lives in memory behind a single mutex and is written through to a
// durable store on every mutation. Two store drivers exist:
//   - "file": a single JSON array of user ids, rewritten wholesale
//   - "sqlite": a users table (modernc.org/sqlite)
//
// An absent store artifact is a valid first-run state. Malformed content is
// treated as recoverable corruption: logged, replaced by an empty set.
package registry
