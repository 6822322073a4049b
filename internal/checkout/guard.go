package checkout

const CartURL = "/cart"

// Decision is the outcome of a checkout page request.
type Decision struct {
	Step Step
	// Redirect is set when the requested page must not be shown; the client
	// is sent there instead.
	Redirect        string
	ShowSnapshot    bool
	DiscardSnapshot bool
	Reset           bool
	Retreat         bool
}

// Resolve decides which step a request for requested may render.
//
// A confirmed checkout keeps showing its snapshot until the customer starts
// over with a non-empty cart. Otherwise an empty cart sends the customer back
// to the cart, and a request can never skip ahead of the step the machine has
// reached.
func Resolve(requested Step, state State, cartEmpty, hasSnapshot bool) Decision {
	if !requested.Valid() {
		requested = StepSummary
	}

	var d Decision
	if state == StateConfirmed {
		if hasSnapshot && (requested == StepConfirmation || cartEmpty) {
			d.Step = StepConfirmation
			d.ShowSnapshot = true
			if requested != StepConfirmation {
				d.Redirect = StepConfirmation.URL()
			}
			return d
		}
		d.Reset = true
		d.DiscardSnapshot = hasSnapshot
		state = StateSummary
	}

	if cartEmpty {
		d.Redirect = CartURL
		return d
	}

	current := state.Step()
	switch {
	case requested > current:
		d.Step = current
		d.Redirect = current.URL()
	case requested < current && state == StateInformation:
		d.Step = requested
		d.Retreat = true
	case requested < current:
		d.Step = current
		d.Redirect = current.URL()
	default:
		d.Step = current
	}
	return d
}
