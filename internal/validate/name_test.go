package validate

import "testing"

func TestName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"com.example.Foo", true},
		{"com.example.Foo-Bar_Baz", true},
		{"a.b", true},
		{"a.b1", true},
		{"", false},
		{"noDots", false},
		{".leadingdot.foo", false},
		{"trailingdot.foo.", false},
		{"com..example", false},
		{"1com.example", false},
		{"com.1example", false},
		{"com.exam ple", false},
		{"com.exa!mple", false},
	}
	for _, tc := range tests {
		if got := Name(tc.name); got != tc.want {
			t.Errorf("Name(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNameMaxLength(t *testing.T) {
	elem := make([]byte, MaxNameLength-2)
	for i := range elem {
		elem[i] = 'a'
	}
	ok := "a." + string(elem)
	if len(ok) != MaxNameLength {
		t.Fatalf("test setup: len(ok) = %d, want %d", len(ok), MaxNameLength)
	}
	if !Name(ok) {
		t.Errorf("Name(<%d bytes>) = false, want true", len(ok))
	}
	tooLong := ok + "a"
	if Name(tooLong) {
		t.Errorf("Name(<%d bytes>) = true, want false", len(tooLong))
	}
}
