package tessie

// Flatten joins nested objects into "<parent>_<child>" keys. JSON nulls are
// dropped so a field a vehicle does not report is absent from the state.
func Flatten(raw map[string]any) State {
	state := State{}
	flattenInto(state, "", raw)
	return state
}

func flattenInto(state State, prefix string, raw map[string]any) {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch value := v.(type) {
		case nil:
		case map[string]any:
			flattenInto(state, key, value)
		default:
			state[key] = value
		}
	}
}
