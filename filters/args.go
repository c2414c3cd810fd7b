package filters

import "fmt"

// StringArg converts a filter argument to string.
func StringArg(x any) (string, error) {
	if s, ok := x.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("%v is not a string", x)
}

// IntArg converts a filter argument to int. Numbers from JSON or YAML
// configuration arrive as float64, those are accepted when integral.
func IntArg(x any) (int, error) {
	switch i := x.(type) {
	case int:
		return i, nil
	case float64:
		ii := int(i)
		// check if integer
		if float64(ii) == i {
			return ii, nil
		}
	}
	return 0, fmt.Errorf("%v is not an integer", x)
}
