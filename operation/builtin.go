package operation

// RegisterBuiltins wires the operation-contract stand-in modules named
// in SPEC_FULL.md §4.E into their declared operation types: pretty_print
// dispatches on "bytes" (the canonical encoding pretty.print renders),
// serialize/deserialize dispatch on "bytes", and extract_metadata
// dispatches on "any", which the subtype fallback in Resolve reaches for
// "any" itself and for every data type that accepts an "any" query
// (file_bundle among the builtins).
func RegisterBuiltins(reg *Registry) {
	reg.Register("pretty_print", "bytes", Template{
		ModuleType: "pretty.print",
		InputMap:   map[string]string{"value": "encoded"},
	})
	reg.Register("serialize", "bytes", Template{
		ModuleType: "serialize.bytes",
	})
	reg.Register("deserialize", "bytes", Template{
		ModuleType: "deserialize.bytes",
		InputMap:   map[string]string{"value": "serialized"},
	})
	reg.Register("extract_metadata", "any", Template{
		ModuleType: "metadata.extract",
	})
}
