package domain

// MediaReference is one resolved attachment. References are never mutated
// after resolution; the current message's media always sorts before media
// pulled from a quoted message.
type MediaReference struct {
	// Path is where the downloaded bytes were saved locally.
	Path string
	// ContentType comes from transport metadata when present, otherwise it is
	// sniffed from the downloaded bytes.
	ContentType string
	// Placeholder is the symbolic token standing in for the media in plain
	// text, e.g. "this is an image".
	Placeholder string
}
