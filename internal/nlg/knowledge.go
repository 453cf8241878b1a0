package nlg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const knowledgeHeader = "### Base de Conhecimento (use APENAS estas informações para responder)\n"

// LoadKnowledge reads the clinic knowledge base from path. A missing file is
// not an error; the generator simply runs without reference text.
func LoadKnowledge(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("nlg: read knowledge base: %w", err)
	}
	return string(raw), nil
}
