package model

// StegoMethod is the media domain a secret is hidden in.
type StegoMethod string

const (
	MethodText  StegoMethod = "text"
	MethodImage StegoMethod = "image"
	MethodAudio StegoMethod = "audio"
	MethodVideo StegoMethod = "video"
)

// Valid reports whether m is one of the known methods.
func (m StegoMethod) Valid() bool {
	switch m {
	case MethodText, MethodImage, MethodAudio, MethodVideo:
		return true
	}
	return false
}

// Label returns the display name of the method.
func (m StegoMethod) Label() string {
	switch m {
	case MethodText:
		return "Text Steganography"
	case MethodImage:
		return "Image Steganography"
	case MethodAudio:
		return "Audio Steganography"
	case MethodVideo:
		return "Video Steganography"
	}
	return string(m)
}

// CoverKind is the type of carrier artifact chosen at the first wizard step.
type CoverKind string

const (
	CoverText  CoverKind = "text"
	CoverImage CoverKind = "image"
	CoverAudio CoverKind = "audio"
	CoverVideo CoverKind = "video"
)

// Valid reports whether k is one of the known cover kinds.
func (k CoverKind) Valid() bool {
	switch k {
	case CoverText, CoverImage, CoverAudio, CoverVideo:
		return true
	}
	return false
}

// Algorithm is the text-domain embedding technique.
type Algorithm string

const (
	AlgorithmCharacter Algorithm = "character-level"
	AlgorithmHomoglyph Algorithm = "homoglyph"
	AlgorithmWord      Algorithm = "word-level"
)

// DefaultAlgorithm is selected whenever a wizard session starts.
const DefaultAlgorithm = AlgorithmCharacter

// Valid reports whether a is one of the known algorithms.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmCharacter, AlgorithmHomoglyph, AlgorithmWord:
		return true
	}
	return false
}
