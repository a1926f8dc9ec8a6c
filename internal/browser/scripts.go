package browser

import (
	"fmt"

	"commentguard/internal/classify"
)

const (
	// bindingName is the page-side function that forwards events to Go.
	bindingName = "__commentguardEvent"
	// refAttribute tags each comment thread with a stable reference.
	refAttribute = "data-commentguard-ref"

	threadSelector = "ytd-comment-thread-renderer"
	textSelector   = "#content-text"
)

// treatment is the inline style applied for a verdict.
type treatment struct {
	BorderLeft      string
	BackgroundColor string
	PaddingLeft     string
}

var treatments = map[classify.Verdict]treatment{
	classify.VerdictSpam: {
		BorderLeft:      "4px solid #f05247",
		BackgroundColor: "rgba(240, 82, 71, 0.05)",
		PaddingLeft:     "12px",
	},
	classify.VerdictSuspicious: {
		BorderLeft:      "4px solid rgb(206, 206, 24)",
		BackgroundColor: "rgba(206, 206, 24, 0.05)",
		PaddingLeft:     "12px",
	},
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func jsStrings(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// navigationScript runs in every new document. It reports the initial
// location and every in-app navigation.
func navigationScript() string {
	return fmt.Sprintf(`(() => {
  const send = () => {
    if (typeof window[%[1]s] === 'function') {
      window[%[1]s](JSON.stringify({type: 'navigate', href: location.href}));
    }
  };
  window.addEventListener('yt-navigate-finish', send);
  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', send, {once: true});
  } else {
    send();
  }
})();`, jsString(bindingName))
}

// discoverScript returns the first selector that matches an element, or "".
func discoverScript(selectors []string) string {
	return fmt.Sprintf(`(() => {
  for (const sel of %s) {
    if (document.querySelector(sel)) return sel;
  }
  return '';
})()`, jsStrings(selectors))
}

// observeScript attaches a subtree observer to the container and registers
// it under id.
func observeScript(selector, id string) string {
	return fmt.Sprintf(`(() => {
  const target = document.querySelector(%[1]s);
  if (!target) return false;
  window.__commentguardObservers = window.__commentguardObservers || {};
  const previous = window.__commentguardObservers[%[2]s];
  if (previous) previous.disconnect();
  const observer = new MutationObserver(() => {
    window[%[3]s](JSON.stringify({type: 'mutation', id: %[2]s}));
  });
  observer.observe(target, {childList: true, subtree: true});
  window.__commentguardObservers[%[2]s] = observer;
  return true;
})()`, jsString(selector), jsString(id), jsString(bindingName))
}

// disconnectScript removes the observer registered under id.
func disconnectScript(id string) string {
	return fmt.Sprintf(`(() => {
  const observers = window.__commentguardObservers || {};
  const observer = observers[%[1]s];
  if (observer) {
    observer.disconnect();
    delete observers[%[1]s];
  }
  return true;
})()`, jsString(id))
}

// enumerateScript tags every comment thread and returns {ref, text} pairs in
// display order.
func enumerateScript() string {
	return fmt.Sprintf(`(() => {
  window.__commentguardSeq = window.__commentguardSeq || 0;
  const out = [];
  for (const thread of document.querySelectorAll(%[1]s)) {
    const textEl = thread.querySelector(%[2]s);
    if (!textEl) continue;
    let ref = thread.getAttribute(%[3]s);
    if (!ref) {
      ref = String(++window.__commentguardSeq);
      thread.setAttribute(%[3]s, ref);
    }
    out.push({ref: ref, text: textEl.textContent || ''});
  }
  return out;
})()`, jsString(threadSelector), jsString(textSelector), jsString(refAttribute))
}

// markScript clears the thread's treatment and applies the one for verdict.
// Safe comments end up unmarked.
func markScript(ref string, verdict classify.Verdict) string {
	t := treatments[verdict]
	return fmt.Sprintf(`(() => {
  const thread = document.querySelector('[' + %[1]s + '="' + CSS.escape(%[2]s) + '"]');
  if (!thread) return false;
  const body = thread.querySelector('#body') || thread.querySelector('#comment') || thread;
  body.style.borderLeft = %[3]s;
  body.style.backgroundColor = %[4]s;
  body.style.paddingLeft = %[5]s;
  return true;
})()`, jsString(refAttribute), jsString(ref),
		jsString(t.BorderLeft), jsString(t.BackgroundColor), jsString(t.PaddingLeft))
}

// clearAllScript strips treatments from every thread.
func clearAllScript() string {
	return fmt.Sprintf(`(() => {
  let n = 0;
  for (const thread of document.querySelectorAll(%[1]s)) {
    const body = thread.querySelector('#body') || thread.querySelector('#comment') || thread;
    body.style.borderLeft = '';
    body.style.backgroundColor = '';
    body.style.paddingLeft = '';
    n++;
  }
  return n;
})()`, jsString(threadSelector))
}
