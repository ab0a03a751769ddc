package reputation

// Tier bands. A tier is a pure function of the current score; the stored
// users.tier column is only a cache of this rule.
const (
	TierNew     = "new"
	TierRegular = "regular"
	TierTrusted = "trusted"
	TierVIP     = "vip"
	TierElite   = "elite"
)

var bands = []struct {
	min  int64
	tier string
}{
	{1000, TierElite},
	{500, TierVIP},
	{200, TierTrusted},
	{50, TierRegular},
	{0, TierNew},
}

// TierFor maps a reputation score onto its band.
func TierFor(score int64) string {
	for _, b := range bands {
		if score >= b.min {
			return b.tier
		}
	}
	return TierNew
}
