package template

const (
	// KeyArguments holds the full argument map in backend template data.
	KeyArguments = "arguments"
	// KeyTool holds the backend-side tool name.
	KeyTool = "tool"
)

// BackendData is the data backend templates render against: every argument
// at the top level, plus the reserved keys "arguments" and "tool". Reserved
// keys shadow arguments of the same name.
func BackendData(tool string, args map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(args)+2)
	for k, v := range args {
		data[k] = v
	}
	data[KeyArguments] = args
	data[KeyTool] = tool
	return data
}
