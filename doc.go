/*
Package itemdb implements a versioned, transactional store of items on top
of a key-value store (Bolt, or B-trees in memory).

We implement:

1. Items, nodes of a persistent graph identified by UUIDs. An item has a
name, a parent, an optional kind, literal values and references to other
items.

2. Views, each a session's consistent picture of the store at one version.
A view loads items on demand, tracks changes, and commits them as a new
version. Refreshing a view moves it to a newer version and unloads the
items that changed in between.

3. Weak item references (ItemRef) that resolve through their view, and
survive an item being unloaded and reloaded.

4. Kinds, a small schema layer: per-attribute storage, cardinality,
defaults, redirects, after-change hooks and value inheritance.

# Technical Details

**Versioned keys.**
Every versioned record is keyed by its owner's identifier followed by the
bitwise-inverted big-endian version. Newer versions of the same owner thus
sort first, and a single seek to owner + ^v lands on the newest record with
a version of at most v. Nothing is overwritten: committing version v+1
appends records, so older versions stay readable.

**Containers.**
items, values (one record per item, attribute and version; only changed
values are written), refs, versions (current version and per-commit info),
history (keyed by version first, for forward scans), and the kinds and
parents indexes, which project an item's kind and parent so that queries
and child lookups don't need to scan items.

**Records.**
Stored values use the tagged encoding of the record sub-package.

**Deadlocks.**
A transaction that the backing store aborts with ErrDeadlock is retried from
scratch with exponential backoff. Only the outermost transaction retries;
nested reads reuse it and pass the deadlock up.
*/
package itemdb
