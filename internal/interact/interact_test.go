package interact

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsentry/tagsentry/internal/browser/browsertest"
	"github.com/tagsentry/tagsentry/internal/clock"
	"github.com/tagsentry/tagsentry/internal/model"
	"github.com/tagsentry/tagsentry/internal/observer"
)

var testLogger = slog.New(slog.DiscardHandler)

func fastConfig() Config {
	return Config{
		StabilizeWait:   time.Millisecond,
		LinkObserveWait: 30 * time.Millisecond,
		FormObserveWait: 30 * time.Millisecond,
	}
}

type fixture struct {
	sess *browsertest.Session
	log  *observer.Log
	drv  *Driver
}

func newFixture(cfg Config) *fixture {
	clk := clock.New()
	log := observer.NewLog(clk)
	sess := &browsertest.Session{Elements: map[string][]*browsertest.Element{}}
	sess.OnRequest(log.OnRequest)
	return &fixture{
		sess: sess,
		log:  log,
		drv:  New(log, clk, cfg, testLogger),
	}
}

func phoneLink(f *fixture, href string, beaconURL string) *browsertest.Element {
	el := &browsertest.Element{TagName: "a", Attrs: map[string]string{"href": href}}
	if beaconURL != "" {
		el.OnClick = func(bool) { f.sess.EmitRequest(beaconURL) }
	}
	return el
}

func TestRunCategory_TrackedClick(t *testing.T) {
	f := newFixture(fastConfig())
	f.sess.Elements[`a[href^="tel:"]`] = []*browsertest.Element{
		phoneLink(f, "tel:+15550100", "https://www.google-analytics.com/g/collect?en=phone_click&tid=G-X"),
	}

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAPhone)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Found)
	assert.Equal(t, 1, result.Tested)
	assert.Equal(t, 1, result.Working)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "tel:+15550100", result.Events[0].Target)
	assert.Equal(t, []string{"phone_click"}, result.Events[0].EventNames)
	require.Len(t, result.Windows, 1)
	assert.Equal(t, model.OutcomeTracked, result.Windows[0].Outcome.Kind)
}

func TestRunCategory_UntrackedClick(t *testing.T) {
	f := newFixture(fastConfig())
	f.sess.Elements[`a[href^="tel:"]`] = []*browsertest.Element{
		phoneLink(f, "tel:+15550100", ""),
	}

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAPhone)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Tested)
	assert.Equal(t, 0, result.Working)
	require.Len(t, result.Windows, 1)
	assert.Equal(t, model.OutcomeUntracked, result.Windows[0].Outcome.Kind)
}

// A beacon with no event name counts as fired-but-misconfigured, not as
// working.
func TestRunCategory_TrackedNoEventName(t *testing.T) {
	f := newFixture(fastConfig())
	f.sess.Elements[`a[href^="mailto:"]`] = []*browsertest.Element{
		phoneLink(f, "mailto:x@example.com", "https://www.google-analytics.com/g/collect?tid=G-X"),
	}

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAEmail)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Tested)
	assert.Equal(t, 0, result.Working)
	require.Len(t, result.Windows, 1)
	assert.Equal(t, model.OutcomeTrackedNoEventName, result.Windows[0].Outcome.Kind)
	assert.Empty(t, result.Events)
}

func TestRunCategory_ClickFailedDoesNotCountAsTested(t *testing.T) {
	f := newFixture(fastConfig())
	broken := &browsertest.Element{
		TagName:  "a",
		Attrs:    map[string]string{"href": "tel:+15550100"},
		ClickErr: fmt.Errorf("node detached"),
	}
	f.sess.Elements[`a[href^="tel:"]`] = []*browsertest.Element{broken}

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAPhone)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Found)
	assert.Equal(t, 0, result.Tested)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Reason, "node detached")
	require.Len(t, result.Windows, 1)
	assert.Equal(t, model.OutcomeClickFailed, result.Windows[0].Outcome.Kind)
}

func TestRunCategory_CapsLinkCount(t *testing.T) {
	f := newFixture(fastConfig())
	var els []*browsertest.Element
	for i := 0; i < 5; i++ {
		els = append(els, phoneLink(f, fmt.Sprintf("tel:+1555010%d", i), ""))
	}
	f.sess.Elements[`a[href^="tel:"]`] = els

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAPhone)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Found)
	assert.Equal(t, 3, result.Tested, "link cap is 3")
	for i, el := range els {
		if i < 3 {
			assert.Equal(t, 1, el.Clicks())
		} else {
			assert.Equal(t, 0, el.Clicks())
		}
	}
}

func TestRunCategory_FormFillHeuristics(t *testing.T) {
	f := newFixture(fastConfig())

	email := &browsertest.Element{TagName: "input", Attrs: map[string]string{"type": "email", "name": "your-email"}}
	phone := &browsertest.Element{TagName: "input", Attrs: map[string]string{"type": "text", "name": "phone_number"}}
	free := &browsertest.Element{TagName: "input", Attrs: map[string]string{"type": "text", "name": "subject"}}
	message := &browsertest.Element{TagName: "textarea", Attrs: map[string]string{"name": "message"}}
	terms := &browsertest.Element{TagName: "input", Attrs: map[string]string{"type": "checkbox", "required": ""}}
	optional := &browsertest.Element{TagName: "input", Attrs: map[string]string{"type": "checkbox"}}
	hidden := &browsertest.Element{TagName: "input", Attrs: map[string]string{"type": "hidden", "name": "csrf"}, Hidden: true}
	submit := &browsertest.Element{TagName: "button", Attrs: map[string]string{"type": "submit"}}
	submit.OnClick = func(bool) {
		f.sess.EmitRequest("https://www.google-analytics.com/g/collect?en=form_submit&tid=G-X")
	}

	form := &browsertest.Element{
		TagName: "form",
		Attrs:   map[string]string{"id": "contact"},
		Children: map[string][]*browsertest.Element{
			"input, textarea, select": {email, phone, free, message, terms, optional, hidden},
			submitSelector:            {submit},
		},
	}
	f.sess.Elements["form"] = []*browsertest.Element{form}

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAForm)
	require.NoError(t, err)

	assert.Equal(t, "test@example.com", email.FilledValue())
	assert.Equal(t, "5551234567", phone.FilledValue(), "name heuristic routes phone fields")
	assert.Equal(t, "Test", free.FilledValue())
	assert.Equal(t, "Test message", message.FilledValue())
	assert.True(t, terms.Checked(), "required checkbox gets checked")
	assert.False(t, optional.Checked())
	assert.Empty(t, hidden.FilledValue(), "hidden inputs are skipped")
	assert.Equal(t, 1, submit.Clicks())

	assert.Equal(t, 1, result.Working)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "form#contact", result.Events[0].Target)
}

func TestRunCategory_ValidationErrorSuppressesSubmit(t *testing.T) {
	f := newFixture(fastConfig())

	submit := &browsertest.Element{TagName: "button", Attrs: map[string]string{"type": "submit"}}
	form := &browsertest.Element{
		TagName: "form",
		Children: map[string][]*browsertest.Element{
			"input, textarea, select": {},
			validationSelector:        {{TagName: "div"}},
			submitSelector:            {submit},
		},
	}
	f.sess.Elements["form"] = []*browsertest.Element{form}

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAForm)
	require.NoError(t, err)

	assert.Equal(t, 0, submit.Clicks())
	assert.Equal(t, 1, result.Tested, "suppressed submit still counts as tested")
}

func TestRunCategory_FormCapIsTwo(t *testing.T) {
	f := newFixture(fastConfig())
	var forms []*browsertest.Element
	for i := 0; i < 3; i++ {
		forms = append(forms, &browsertest.Element{
			TagName:  "form",
			Children: map[string][]*browsertest.Element{"input, textarea, select": {}},
		})
	}
	f.sess.Elements["form"] = forms

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAForm)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Found)
	assert.Equal(t, 2, result.Tested)
}

// A failure on one element does not abort the rest of the category.
func TestRunCategory_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(fastConfig())
	broken := &browsertest.Element{
		TagName:   "a",
		Attrs:     map[string]string{"href": "tel:+1"},
		ScrollErr: fmt.Errorf("detached"),
	}
	good := phoneLink(f, "tel:+2", "https://www.google-analytics.com/g/collect?en=phone_click")
	f.sess.Elements[`a[href^="tel:"]`] = []*browsertest.Element{broken, good}

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAPhone)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Tested)
	assert.Equal(t, 1, result.Working)
	require.Len(t, result.Failures, 1)
}

func TestRunCategory_EmptyCategory(t *testing.T) {
	f := newFixture(fastConfig())

	result, err := f.drv.RunCategory(context.Background(), f.sess, model.CTAPhone)
	require.NoError(t, err)
	assert.Zero(t, result.Found)
	assert.Zero(t, result.Tested)
}

func TestRunCategory_CancelledContext(t *testing.T) {
	f := newFixture(fastConfig())
	f.sess.Elements[`a[href^="tel:"]`] = []*browsertest.Element{phoneLink(f, "tel:+1", "")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.drv.RunCategory(ctx, f.sess, model.CTAPhone)
	assert.ErrorIs(t, err, context.Canceled)
}
