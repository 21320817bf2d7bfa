//go:build !cht_opt_enablepadding

package cht

// counterStripe is one word of the striped size counter. Build with
// -tags cht_opt_enablepadding to give each stripe its own cache line.
type counterStripe struct {
	c int64
}
