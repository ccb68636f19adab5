package browser

// In-page scripts. Element scripts run with this bound to the element.

const jsFindByID = `(id) => document.getElementById(id)`

// jsFindAllByText mirrors a contains() match over normalized own text,
// value, alt and title, in document order
const jsFindAllByText = `(needle, fold) => {
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
	const cmp = (s) => fold ? norm(s).toLowerCase() : norm(s);
	const want = fold ? needle.toLowerCase() : needle;
	const out = [];
	for (const el of document.body ? document.body.querySelectorAll('*') : []) {
		let own = '';
		for (const c of el.childNodes) {
			if (c.nodeType === Node.TEXT_NODE) own += c.textContent + ' ';
		}
		const hay = [own, el.value, el.getAttribute('alt'), el.getAttribute('title')];
		if (hay.some((h) => typeof h === 'string' && cmp(h) !== '' && cmp(h).includes(want))) {
			out.push(el);
		}
	}
	return out;
}`

const jsSnapshot = `(selector, limit) => {
	const visible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const desc = document.querySelector('meta[name="description"]');
	const snap = {
		url: location.href,
		title: document.title || '',
		description: desc ? desc.content || '' : '',
		elements: [],
	};
	for (const el of document.querySelectorAll(selector)) {
		if (limit > 0 && snap.elements.length >= limit) break;
		const attrs = {};
		for (const a of el.attributes) attrs[a.name] = a.value;
		if (typeof el.value === 'string' && el.value !== '') attrs.value = el.value;
		let text = '';
		try { text = el.innerText || el.textContent || ''; } catch (e) {}
		snap.elements.push({ tag: el.tagName.toLowerCase(), attrs, text, visible: visible(el) });
	}
	return snap;
}`

const jsOpeningTag = `() => {
	const html = this.outerHTML || '';
	const end = html.indexOf('>');
	return end < 0 ? html : html.slice(0, end + 1);
}`

const jsScrollIntoCenter = `() => this.scrollIntoView({ block: 'center', inline: 'center', behavior: 'instant' })`

// jsElementAtCenter returns the element on top of this one's center, or
// null when it is this element or one of its descendants
const jsElementAtCenter = `() => {
	const r = this.getBoundingClientRect();
	const top = document.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
	if (!top || top === this || this.contains(top)) return null;
	return top;
}`

const jsMouseSequence = `() => {
	const r = this.getBoundingClientRect();
	const init = {
		bubbles: true, cancelable: true, view: window, button: 0,
		clientX: r.left + r.width / 2, clientY: r.top + r.height / 2,
	};
	for (const type of ['mouseover', 'mousedown', 'mouseup', 'click']) {
		this.dispatchEvent(new MouseEvent(type, init));
	}
}`

// jsSetValue goes through the prototype setter so framework-controlled
// inputs see the change
const jsSetValue = `(value) => {
	const proto = Object.getPrototypeOf(this);
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) {
		desc.set.call(this, '');
		desc.set.call(this, value);
	} else if (this.isContentEditable) {
		this.textContent = value;
	} else {
		this.value = value;
	}
}`

const jsDispatchEvents = `(names) => {
	for (const name of names) {
		if (name === 'blur') {
			this.blur();
			continue;
		}
		this.dispatchEvent(new Event(name, { bubbles: true }));
	}
}`

const jsIsDisabled = `() => !!this.disabled || this.getAttribute('aria-disabled') === 'true'`

// jsInteractiveCount counts visible interactive elements, used to detect
// that a client-rendered page finished hydrating
const jsInteractiveCount = `() => {
	let visible = 0;
	document.querySelectorAll('button, [role="button"], input:not([type="hidden"]), textarea, a[href]')
		.forEach((el) => { if (el.offsetParent) visible++; });
	return visible;
}`

const jsDetectSPA = `() => {
	if (window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot]') || document.querySelector('#__next')) return true;
	if (window.__VUE__ || document.querySelector('[data-v-app]')) return true;
	if (window.ng || document.querySelector('[ng-version]') || document.querySelector('app-root')) return true;
	if (document.querySelector('[class*="svelte-"]')) return true;
	return false;
}`
