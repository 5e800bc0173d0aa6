package clovec

// Names of the native runtime entry points the emitted IR calls into. The
// argument order and count per call is part of the contract with the code
// generator and the runtime library; changing any of these is an ABI break.
const (
	runtimeStringClone = "_string_clone"
	runtimeVectorClone = "_vector_clone"
	runtimeMapClone    = "_map_clone"
	runtimeSetClone    = "_set_clone"

	runtimeVectorFree = "_vector_free"
	runtimeMapFree    = "_map_free"
	runtimeSetFree    = "_set_free"

	runtimeVectorCreate = "_vector_create"
	runtimeMapCreate    = "_map_create"
	runtimeSetCreate    = "_set_create"

	runtimeVectorGet = "_vector_get"
	runtimeMapGet    = "_map_get"
	runtimeStringGet = "_string_get"

	runtimeMapAssoc  = "_map_assoc"
	runtimeMapDissoc = "_map_dissoc"
	runtimeSetDisj   = "_set_disj"

	runtimeMapContains = "_map_contains"
	runtimeSetContains = "_set_contains"

	runtimeStringConcatN     = "_string_concat_n"
	runtimeStringNormalize   = "_string_normalize"
	runtimeStringFromNumber  = "_string_from_number"
	runtimeStringFromBoolean = "_string_from_boolean"

	runtimeVectorToString = "_vector_to_string"
	runtimeMapToString    = "_map_to_string"
	runtimeSetToString    = "_set_to_string"

	runtimeVectorCount = "_vector_count"
	runtimeMapCount    = "_map_count"
	runtimeStringCount = "_string_count"

	runtimeVectorSlice = "_vector_slice"
	runtimeStringSubs  = "_string_subs"

	runtimeMapValueClone = "_map_value_clone"
)
