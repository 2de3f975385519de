/*
Package docdb implements an embeddable JSON document database on top of a
key-value store (in this case, on top of Bolt).

We implement:

1. Collections, named sets of schema-less documents keyed by UUID.

2. Schema inference, building a per-collection field catalog (data type,
array element type, tokenization flag, facet settings) from inserted
documents as they arrive.

3. A binary document codec (msgpack with a closed, versioned kind registry),
optionally wrapped in a compression envelope.

4. An inverted full-text index per collection, kept in sync with storage
under a refresh/commit cadence, with a Lucene-ish query grammar, paging,
sorting, faceting and highlighting.

5. A JSON-Pointer PATCH engine with strict validation and an
optimistic-concurrency check on whole-document updates.

# Technical Details

**Buckets.**
Document bytes live in one nested Bolt bucket per collection under the
"docs" root bucket. Collection schemas live in the reserved "system"
bucket so they survive restart.

**Value encoding.**
A stored blob is: strategy byte, xxhash64 checksum of the payload, then
the (possibly compressed) codec output. The codec writes each document
field as a kind byte followed by a kind-specific msgpack payload, so
decoding restores the exact tagged value, including nested arrays of maps.

**Index visibility.**
Index writes are queued and become visible to readers on the next refresh
cycle (sub-second by default). Durability is driven by a much less
frequent commit cycle that persists an index snapshot next to the data
file. Callers that need read-after-write consistency should read through
the storage engine (Get), not the index.
*/
package docdb
