package render

import (
	"golang.org/x/net/html"

	"github.com/abelbrown/spoilerguard/internal/dom"
)

// Interaction is a user input delivered to a mask.
type Interaction int

const (
	PointerEnter Interaction = iota
	PointerLeave
	Click
	KeyEnter
	KeySpace
)

func (i Interaction) String() string {
	switch i {
	case PointerEnter:
		return "pointerenter"
	case PointerLeave:
		return "pointerleave"
	case Click:
		return "click"
	case KeyEnter:
		return "enter"
	case KeySpace:
		return "space"
	}
	return "unknown"
}

// StateOf returns a mask's current state.
func StateOf(mask *html.Node) State {
	if v, _ := dom.Attr(mask, AttrState); v == string(StateRevealed) {
		return StateRevealed
	}
	return StateMasked
}

// Pinned reports whether the mask was revealed persistently.
func Pinned(mask *html.Node) bool {
	v, _ := dom.Attr(mask, "aria-pressed")
	return v == "true"
}

// Interact applies in to mask and returns the resulting state.
//
// Hover mode previews on pointer enter and re-masks on leave unless the
// mask is pinned. Click mode toggles the pin on click. Enter and Space
// toggle the pin in both modes.
func (r *Renderer) Interact(mask *html.Node, in Interaction) State {
	if mask == nil || !dom.HasClass(mask, MaskClass) || !r.doc.Attached(mask) {
		return StateMasked
	}
	mode := r.reveal
	if v, ok := dom.Attr(mask, AttrReveal); ok {
		mode = RevealMode(v)
	}

	state, pinned := StateOf(mask), Pinned(mask)
	switch in {
	case PointerEnter:
		if mode == RevealHover {
			state = StateRevealed
		}
	case PointerLeave:
		if mode == RevealHover && !pinned {
			state = StateMasked
		}
	case Click:
		if mode == RevealClick {
			pinned = !pinned
			state = pinState(pinned)
		}
	case KeyEnter, KeySpace:
		pinned = !pinned
		state = pinState(pinned)
	}

	r.doc.Mutate(dom.OriginRenderer, func() {
		r.doc.SetAttr(mask, AttrState, string(state))
		if pinned {
			r.doc.SetAttr(mask, "aria-pressed", "true")
		} else {
			r.doc.SetAttr(mask, "aria-pressed", "false")
		}
	})
	return state
}

func pinState(pinned bool) State {
	if pinned {
		return StateRevealed
	}
	return StateMasked
}
