package extract

import "testing"

func TestValidSourceURL(t *testing.T) {
	valid := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"http://YOUTUBE.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
	}
	for _, url := range valid {
		if !ValidSourceURL(url) {
			t.Errorf("expected %q to be valid", url)
		}
	}

	invalid := []string{
		"not-a-real-source",
		"https://vimeo.com/12345",
		"https://example.com/watch?v=dQw4w9WgXcQ",
		"",
	}
	for _, url := range invalid {
		if ValidSourceURL(url) {
			t.Errorf("expected %q to be invalid", url)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLx&index=3",
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			"https://youtu.be/dQw4w9WgXcQ?t=42",
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			"https://www.youtube.com/shorts/dQw4w9WgXcQ",
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			"https://www.youtube.com/embed/dQw4w9WgXcQ",
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		// No recognizable video id: pass through untouched.
		{
			"https://www.youtube.com/playlist?list=PLx",
			"https://www.youtube.com/playlist?list=PLx",
		},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Song", "My Song"},
		{`bad<>:"/\|?*name`, "bad_________name"},
		{"  spaced   out  ", "spaced out"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeFileName(string(long)); len(got) != 150 {
		t.Errorf("expected long name capped at 150, got %d", len(got))
	}
}
