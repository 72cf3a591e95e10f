package format

import "golang.org/x/text/transform"

type newlineNormalizer struct{ transform.NopResetter }

// NewlineNormalizer returns a transformer that rewrites "\r\n" and lone
// "\r" line endings to "\n".
func NewlineNormalizer() transform.Transformer { return newlineNormalizer{} }

func (newlineNormalizer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\r' {
			if nSrc+1 == len(src) && !atEOF {
				// Cannot tell "\r" from "\r\n" yet.
				return nDst, nSrc, transform.ErrShortSrc
			}
			if nSrc+1 < len(src) && src[nSrc+1] == '\n' {
				nSrc++
				continue
			}
			c = '\n'
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}
