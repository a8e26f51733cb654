package upgrade

// Data migration hooks are registered here. Add new hooks when a schema
// bump requires Go-based data transformation instead of a plain DDL change.
// Schema version 1 is the initial version, so there is nothing to backfill
// yet.
