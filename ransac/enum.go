package ransac

import "fmt"

func enumString[T ~int](names map[T]string, v T) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(v))
}

func enumMarshal[T ~int](names map[T]string, v T) ([]byte, error) {
	name, ok := names[v]
	if !ok {
		return nil, fmt.Errorf("unknown value %d", int(v))
	}
	return []byte(name), nil
}

func enumUnmarshal[T ~int](names map[T]string, kind string, b []byte, dst *T) error {
	for v, name := range names {
		if name == string(b) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown %s type %q", kind, string(b))
}
