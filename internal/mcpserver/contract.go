package mcpserver

// TagSchema describes the tags the store uses for PDF and metadata entries,
// so LLM consumers can interpret version listings.
const TagSchema = `# scivault Tag Schema

Every entry in the content-addressed store is an immutable blob with a
timestamp and a list of name/value tags. Papers are looked up by DOI.

## PDF entries

| tag            | required | meaning                                                   |
|----------------|----------|-----------------------------------------------------------|
| ` + "`App-Name`" + `     | yes      | always ` + "`scivault`" + `                                         |
| ` + "`Content-Type`" + ` | yes      | ` + "`application/pdf`" + `                                         |
| ` + "`Version`" + `      | yes      | storage format: ` + "`1.0.3`" + ` (chunked) or ` + "`2.0.0`" + ` (single entry)  |
| ` + "`doi`" + `          | yes      | the paper's DOI, without a resolver prefix                |
| ` + "`Upload-Id`" + `    | chunked  | batch id shared by every chunk of one upload              |
| ` + "`Chunk-Index`" + `  | chunked  | 0-based position of the chunk (default 0)                 |
| ` + "`Total-Chunks`" + ` | chunked  | number of chunks in the batch (default 1)                 |

## Metadata entries

JSON documents tagged ` + "`Content-Type: application/json`" + ` and ` + "`doi`" + `, carrying
` + "`title`" + `, ` + "`authors`" + ` and ` + "`abstract`" + `.

## Version selection

1. Chunks are grouped by ` + "`Upload-Id`" + ` (entries without one are grouped by timestamp).
2. A group is complete when it holds exactly the indexes 0..Total-Chunks-1, each once,
   and all chunks agree on Total-Chunks.
3. The newest complete group wins; equal timestamps go to the smallest Upload-Id.
4. With no complete group, every chunk is used in Chunk-Index order (best effort).
5. For ` + "`2.0.0`" + ` the newest entry is used.

` + "`list_pdf_versions`" + ` returns one descriptor per storage format, newest first:

` + "```" + `json
{"version": "1.0.3", "isChunked": true, "ids": ["<chunk-0>", "<chunk-1>"], "uploadTimestamp": 1700000000000}
` + "```" + `

Downloads are all-or-nothing: if any chunk cannot be fetched the download fails and
names the failing chunk index.
`
