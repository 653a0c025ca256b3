/*
Package allocator bridges the master's placement decisions to an external
IAllocator script, rather than deciding placement itself.

The IAllocator protocol this package speaks puts node selection outside
the cluster manager entirely: the bridge serializes cluster state plus
an allocate or relocate request into a JSON document, writes it to a
temp file, and invokes a configured external script with that file as
its only argument.
The script's stdout, {success, info, nodes}, is the actual placement
decision; the bridge only validates that it returned exactly as many
nodes as requested.

This is invoked synchronously from pkg/lu during CreateInstance and
ReplaceDisks opcode execution, under the caller's already-held instance
and BGL locks — the bridge itself does not lock, poll, or retry.

Node and instance descriptions only filter on "does this node belong in
the script's input at all" — drained and offline nodes are omitted from
the document rather than merely deprioritized.
*/
package allocator
