package source

import (
	"errors"
	"fmt"
	"os"

	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
	"github.com/Skryldev/image-stream/utils"
)

// OpenFile streams a local file.  Its size becomes the expected byte count.
func OpenFile(path string, window int) (*Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategorySource, "file.open",
				fmt.Errorf("%w: %s", apperrors.ErrSourceUnavailable, path))
		}
		return nil, apperrors.Wrap(apperrors.CategorySource, "file.open", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.Wrap(apperrors.CategorySource, "file.stat", err)
	}
	if st.IsDir() {
		f.Close()
		return nil, apperrors.New(apperrors.CategoryInput, "file.open",
			fmt.Errorf("%s is a directory", path))
	}
	return &Resource{
		Stream:   NewStream(f, window),
		Name:     path,
		Expected: st.Size(),
		Format:   core.Format(utils.FormatFromName(path)),
	}, nil
}
