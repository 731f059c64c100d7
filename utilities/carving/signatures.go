package carving

import (
	"fmt"
	"strings"

	"github.com/qfsutil/qfsimg"
)

// Signature describes how to recognize one type of file in raw bytes.
type Signature struct {
	// Name is the short name users select the signature by, e.g. "jpeg".
	Name string
	// Extension is given to recovered files, without the leading dot.
	Extension string
	Start     []byte
	End       []byte
}

var JPEG = Signature{
	Name:      "jpeg",
	Extension: "jpg",
	Start:     []byte{0xFF, 0xD8},
	End:       []byte{0xFF, 0xD9},
}

var PNG = Signature{
	Name:      "png",
	Extension: "png",
	Start:     []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A},
	// The IEND chunk type and its CRC.
	End: []byte{'I', 'E', 'N', 'D', 0xAE, 0x42, 0x60, 0x82},
}

var PDF = Signature{
	Name:      "pdf",
	Extension: "pdf",
	Start:     []byte("%PDF-"),
	End:       []byte("%%EOF"),
}

// KnownSignatures lists every built-in signature.
var KnownSignatures = []Signature{JPEG, PNG, PDF}

// DefaultSignatures is what is searched for when the caller doesn't say.
var DefaultSignatures = []Signature{JPEG}

// SignatureByName returns the built-in signature with the given name. Matching
// is case-insensitive, and the extension is accepted as an alias.
func SignatureByName(name string) (Signature, error) {
	for _, sig := range KnownSignatures {
		if strings.EqualFold(name, sig.Name) || strings.EqualFold(name, sig.Extension) {
			return sig, nil
		}
	}
	return Signature{}, qfsimg.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("unknown file type %q", name))
}

// ParseSignatureList converts a comma-separated list of names such as
// "jpeg,png" into signatures, in the order given. Duplicates are dropped. An
// empty list gives [DefaultSignatures].
func ParseSignatureList(list string) ([]Signature, error) {
	signatures := []Signature{}
	seen := map[string]bool{}

	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		sig, err := SignatureByName(name)
		if err != nil {
			return nil, err
		}
		if !seen[sig.Name] {
			seen[sig.Name] = true
			signatures = append(signatures, sig)
		}
	}

	if len(signatures) == 0 {
		return DefaultSignatures, nil
	}
	return signatures, nil
}
