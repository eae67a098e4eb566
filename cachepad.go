package ebr

// cacheLinePad is sized so that any field embedded alongside it, plus
// the pad, spans a full cache line on common 64-bit platforms. This
// mirrors original_source/src/cache_padded.rs's repr(align) struct by
// padding with trailing bytes instead of a compiler alignment
// attribute, since Go has no per-field alignment directive.
type cacheLinePad [64]byte
