package blocking

import "privacyhub/internal/consent/models"

// Kind is the primitive a host runtime intercepted.
type Kind string

const (
	KindFetch  Kind = "fetch"
	KindXHR    Kind = "xhr"
	KindBeacon Kind = "beacon"
	KindImage  Kind = "image"
	KindScript Kind = "script"
	KindIframe Kind = "iframe"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindFetch, KindXHR, KindBeacon, KindImage, KindScript, KindIframe:
		return true
	}
	return false
}

// IsNetwork reports whether the activity is a request the host can reject.
func (k Kind) IsNetwork() bool {
	switch k {
	case KindFetch, KindXHR, KindBeacon, KindImage:
		return true
	}
	return false
}

// Activity is one outbound request or inserted element.
type Activity struct {
	Kind Kind
	URL  string
	// CategoryHint is set when the element declares its own category, e.g.
	// <script type="text/plain" data-category="analytics">.
	CategoryHint models.Category
	ElementID    string
	// Replayed marks activity re-issued by the engine after consent arrived.
	Replayed bool
}

// Effect tells the host what to do with the activity.
type Effect string

const (
	EffectAllow       Effect = "allow"
	EffectReject      Effect = "reject"
	EffectRemove      Effect = "remove"
	EffectClearSource Effect = "clear_source"
)

// Decision is the outcome of evaluating an activity.
type Decision struct {
	Allowed  bool
	Effect   Effect
	Rule     *Rule
	// Category is the first denied category of a blocked activity, otherwise the
	// first governing one.
	Category models.Category
	// Categories holds every category governing the activity: the hint first,
	// then each matching rule's, without duplicates.
	Categories []models.Category
	// QueueID identifies the replay queue entry holding a suppressed activity.
	QueueID string
}

func suppressEffect(k Kind) Effect {
	switch k {
	case KindScript:
		return EffectRemove
	case KindIframe:
		return EffectClearSource
	default:
		return EffectReject
	}
}
