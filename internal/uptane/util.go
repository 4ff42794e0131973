package uptane

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

func jsonReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// decodeHexOrBase64 accepts a signature encoded either as hex (the
// common TUF convention) or standard base64, since both appear across
// real-world Uptane deployments.
func decodeHexOrBase64(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("uptane: signature is neither valid hex nor base64")
}
