package fsutil

import (
	"context"
	"errors"
	"io"
)

// CopyContext copies src to dst in chunks, checking ctx between chunks
// so a cancelled request stops long transfers promptly.
func CopyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rn, rerr := src.Read(buf)
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}
