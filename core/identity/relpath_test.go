package identity

import "testing"

func TestNormalizeRelPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Artist/Album/01 Song.mp3", "Artist/Album/01%20Song.mp3"},
		{"Artist/Album/01%20Song.mp3", "Artist/Album/01%20Song.mp3"},
		{"/leading/slash.mp3", "leading/slash.mp3"},
		{`Windows\Style\Path.flac`, "Windows/Style/Path.flac"},
		{"Café/Über.mp3", "Caf%C3%A9/%C3%9Cber.mp3"},
		{"100%/x.mp3", "100%25/x.mp3"},
		{"a//b/./../c.mp3", "a/b/c.mp3"},
		{"AC/DC (Live)/Track #1?.mp3", "AC/DC%20(Live)/Track%20%231%3F.mp3"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeRelPath(tc.in); got != tc.want {
			t.Errorf("NormalizeRelPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRelPathIdempotent(t *testing.T) {
	once := NormalizeRelPath("Some Dir/Sub Dir/Track [1].mp3")
	if twice := NormalizeRelPath(once); twice != once {
		t.Fatalf("normalizing twice changed result: %q -> %q", once, twice)
	}
}

func TestJoinURL(t *testing.T) {
	got := JoinURL("http://10.0.0.2:8765/", "/Artist/01%20Song.mp3")
	want := "http://10.0.0.2:8765/Artist/01%20Song.mp3"
	if got != want {
		t.Fatalf("JoinURL = %q, want %q", got, want)
	}
}
