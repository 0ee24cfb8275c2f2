package command

import (
	"maps"
	"slices"

	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/cardimage"
)

// AnticipatedResponse builds the deterministic anticipated response bytes
// for c (spec §4.7), used to pre-feed the MAC chain on CLOSE before the
// card's real answers are known. postponesCounters reflects whether this
// card postpones counter updates to end of session (then INCREASE/DECREASE
// answer 0x6200 instead of the new value).
func AnticipatedResponse(c *Command, img *cardimage.CardImage, postponesCounters bool) ([]byte, error) {
	switch c.Ctx.Ref {
	case RefIncrease, RefDecrease:
		if postponesCounters {
			return []byte{0x62, 0x00}, nil
		}
		cur, ok := img.GetCounter(c.Ctx.SFI, c.Ctx.CounterID)
		if !ok {
			return nil, calypsoerr.Newf(calypsoerr.AnticipationFailure,
				"unknown current value for counter %d in sfi %02X", c.Ctx.CounterID, c.Ctx.SFI)
		}
		delta := c.Ctx.SVAmount
		newVal := cur + delta
		if c.Ctx.Ref == RefDecrease {
			newVal = cur - delta
		}
		out := be24(newVal)
		return append(out, 0x90, 0x00), nil

	case RefIncreaseMultiple, RefDecreaseMultiple:
		var out []byte
		for _, id := range slices.Sorted(maps.Keys(c.Ctx.Deltas)) {
			delta := c.Ctx.Deltas[id]
			cur, ok := img.GetCounter(c.Ctx.SFI, id)
			if !ok {
				return nil, calypsoerr.Newf(calypsoerr.AnticipationFailure,
					"unknown current value for counter %d in sfi %02X", id, c.Ctx.SFI)
			}
			newVal := cur + delta
			if c.Ctx.Ref == RefDecreaseMultiple {
				newVal = cur - delta
			}
			out = append(out, byte(id))
			out = append(out, be24(newVal)...)
		}
		out = append(out, 0x90, 0x00)
		return out, nil

	case RefSVReload, RefSVDebit, RefSVUndebit:
		return []byte{0x62, 0x00}, nil

	default:
		return []byte{0x90, 0x00}, nil
	}
}
