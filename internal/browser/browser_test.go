package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"commentguard/internal/classify"
)

func TestDiscoverScriptListsSelectorsInOrder(t *testing.T) {
	t.Parallel()

	script := discoverScript([]string{"ytd-comments#comments", `x[target-id="a"]`})
	assert.Contains(t, script, `["ytd-comments#comments","x[target-id=\"a\"]"]`)
	assert.Contains(t, discoverScript(nil), "for (const sel of []")
}

func TestMarkScriptTreatments(t *testing.T) {
	t.Parallel()

	spam := markScript("7", classify.VerdictSpam)
	assert.Contains(t, spam, `"4px solid #f05247"`)
	assert.Contains(t, spam, `"rgba(240, 82, 71, 0.05)"`)
	assert.Contains(t, spam, `"12px"`)
	assert.Contains(t, spam, `"data-commentguard-ref"`)
	assert.Contains(t, spam, `CSS.escape("7")`)

	suspicious := markScript("7", classify.VerdictSuspicious)
	assert.Contains(t, suspicious, `"4px solid rgb(206, 206, 24)"`)
	assert.Contains(t, suspicious, `"rgba(206, 206, 24, 0.05)"`)

	safe := markScript("7", classify.VerdictSafe)
	assert.Contains(t, safe, `body.style.borderLeft = "";`)
	assert.Contains(t, safe, `body.style.backgroundColor = "";`)
	assert.NotContains(t, safe, "#f05247")
}

func TestScriptsQuoteUntrustedValues(t *testing.T) {
	t.Parallel()

	script := markScript(`"]');alert(1);//`, classify.VerdictSpam)
	assert.Contains(t, script, `CSS.escape("\"]');alert(1);//")`)

	observe := observeScript(`#a"b`, "3")
	assert.Contains(t, observe, `document.querySelector("#a\"b")`)
}

func TestEnumerateAndClearScripts(t *testing.T) {
	t.Parallel()

	enumerate := enumerateScript()
	assert.Contains(t, enumerate, `"ytd-comment-thread-renderer"`)
	assert.Contains(t, enumerate, `"#content-text"`)
	assert.Contains(t, enumerate, "setAttribute")

	clear := clearAllScript()
	assert.Contains(t, clear, `"ytd-comment-thread-renderer"`)
	assert.Equal(t, 3, strings.Count(clear, "= ''"))
}

func TestNavigationScriptUsesBinding(t *testing.T) {
	t.Parallel()

	script := navigationScript()
	assert.Contains(t, script, "yt-navigate-finish")
	assert.Contains(t, script, `window["__commentguardEvent"]`)
	assert.Contains(t, script, "location.href")
}

func TestRouterDispatchesMutationsToSubscriber(t *testing.T) {
	t.Parallel()

	r := newRouter(zaptest.NewLogger(t))
	calls := map[string]int{}
	a := r.addSubscriber(func() { calls["a"]++ })
	b := r.addSubscriber(func() { calls["b"]++ })
	assert.NotEqual(t, a, b)

	r.handle(`{"type":"mutation","id":"` + a + `"}`)
	r.handle(`{"type":"mutation","id":"` + a + `"}`)
	r.handle(`{"type":"mutation","id":"` + b + `"}`)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, calls)

	r.removeSubscriber(a)
	r.handle(`{"type":"mutation","id":"` + a + `"}`)
	assert.Equal(t, 2, calls["a"])
}

func TestRouterNavigation(t *testing.T) {
	t.Parallel()

	r := newRouter(zaptest.NewLogger(t))
	r.handle(`{"type":"navigate","href":"https://www.youtube.com/watch?v=abc12345678"}`)

	var got []string
	r.OnNavigate(func(location string) { got = append(got, location) })
	r.handle(`{"type":"navigate","href":"https://www.youtube.com/watch?v=abc12345678"}`)
	r.handle(`{"type":"navigate","href":""}`)
	r.handle(`not json`)
	r.handle(`{"type":"other"}`)

	assert.Equal(t, []string{"https://www.youtube.com/watch?v=abc12345678"}, got)
}
