package scheduling

import (
	"fmt"
	"sort"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

// Resolve lays out one date as a sorted sequence of labeled blocks.
//
// Precedence, highest first: all-day time-off hides everything except
// appointments booked over time off, and several all-day blocks on one date
// are layered like any other time off; appointments always show and cut holes in
// time-off; date-specific time-off beats recurring time-off; availability only
// shows where nothing else sits.
func (e *Engine) Resolve(date Date, snap Snapshot) []TimeBlock {
	d := e.normalize(date, snap)

	if allDay := d.allDayTimeOff(); len(allDay) > 0 {
		laid := layer(layerOrder(allDay), nil)
		blocks := make([]TimeBlock, 0, len(laid)+len(d.appointments))
		for _, p := range laid {
			blocks = append(blocks, p.block(p.span, p.piece, p.pieces))
		}
		for _, a := range d.appointments {
			if a.overrides {
				blocks = append(blocks, a.block(a.span, 0, 1))
			}
		}
		sortBlocks(blocks)
		return blocks
	}

	booked := spans(d.appointments)

	timeOff := layer(layerOrder(d.partialTimeOff()), booked)
	avail := layer(layerOrder(d.availability()), append(append([]interval.Range{}, booked...), spans(timeOff)...))

	blocks := make([]TimeBlock, 0, len(d.appointments)+len(timeOff)+len(avail))
	for _, a := range d.appointments {
		blocks = append(blocks, a.block(a.span, 0, 1))
	}
	for _, p := range timeOff {
		blocks = append(blocks, p.block(p.span, p.piece, p.pieces))
	}
	for _, p := range avail {
		blocks = append(blocks, p.block(p.span, p.piece, p.pieces))
	}
	sortBlocks(blocks)
	return blocks
}

// placed is one laid piece of an entry.
type placed struct {
	entry
	piece  int
	pieces int
}

// layer folds entries in order. Each entry is cut by the fixed occluders and
// by every piece laid before it, so no two laid pieces overlap and an earlier
// entry always wins over a later one.
func layer(entries []entry, fixed []interval.Range) []placed {
	var laid []placed
	for _, ent := range entries {
		occluders := append(append([]interval.Range{}, fixed...), spans(laid)...)
		pieces := interval.Subtract(ent.span, occluders...)
		for i, p := range pieces {
			next := ent
			next.span = p
			laid = append(laid, placed{entry: next, piece: i, pieces: len(pieces)})
		}
	}
	return laid
}

// layerOrder puts date-specific entries before recurring ones, then sorts by
// start, longest first. Laid in that order, a date-specific time-off block
// swallows any recurring block it contains, recurring blocks get split around
// it, and overlapping date-specific blocks only lose the head already covered
// by an earlier one.
func layerOrder(in []entry) []entry {
	out := append([]entry(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].recurring != out[j].recurring {
			return !out[i].recurring
		}
		if out[i].span.Start != out[j].span.Start {
			return out[i].span.Start < out[j].span.Start
		}
		return out[i].span.End > out[j].span.End
	})
	return out
}

func spans[T interface{ spanOf() interval.Range }](items []T) []interval.Range {
	out := make([]interval.Range, len(items))
	for i, it := range items {
		out[i] = it.spanOf()
	}
	return out
}

func (e entry) spanOf() interval.Range { return e.span }

func (e entry) block(r interval.Range, piece, pieces int) TimeBlock {
	id := e.id.String()
	if pieces > 1 {
		id = fmt.Sprintf("%s-%d", id, piece+1)
	}
	b := TimeBlock{
		ID:        id,
		SourceID:  e.id,
		Type:      e.kind,
		Start:     r.Start,
		End:       r.End,
		StartTime: interval.MinutesToTime(r.Start),
		EndTime:   interval.MinutesToTime(r.End),
		IsAllDay:  e.allDay,
		Recurring: e.recurring,
	}
	switch e.kind {
	case BlockTimeOff:
		b.Reason = e.reason
	case BlockAppointment:
		b.ClientName = e.client
		b.Status = e.status
	}
	return b
}

var blockRank = map[BlockType]int{BlockTimeOff: 0, BlockAppointment: 1, BlockAvailability: 2}

func sortBlocks(blocks []TimeBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		if blockRank[a.Type] != blockRank[b.Type] {
			return blockRank[a.Type] < blockRank[b.Type]
		}
		return a.ID < b.ID
	})
}
