package render

// imageCompleteScript reports whether an image element finished loading.
// Arguments: image.
const imageCompleteScript = `return !!arguments[0].complete;`

// waitImagesScript resolves once every image in the card is complete or
// has fired load or error. Background images of non-img elements under the
// scan root are loaded through synthesized Image objects. Arguments: card,
// scan root selector (empty for the document), callback.
const waitImagesScript = `
var card = arguments[0];
var root = (arguments[1] && document.querySelector(arguments[1])) || document;
var done = arguments[arguments.length - 1];
var images = Array.prototype.slice.call(card.querySelectorAll('img'));
Array.prototype.forEach.call(root.querySelectorAll('*'), function (el) {
  if (el.tagName === 'IMG') return;
  var bg = window.getComputedStyle(el).getPropertyValue('background-image');
  var m = bg && bg.match(/url\(["']?(.*?)["']?\)/);
  if (!m || !m[1]) return;
  var img = new Image();
  img.src = m[1];
  images.push(img);
});
var pending = images.filter(function (img) { return !img.complete; });
if (pending.length === 0) { done(images.length); return; }
var left = pending.length;
pending.forEach(function (img) {
  var finish = function () {
    left--;
    if (left === 0) done(images.length);
  };
  img.addEventListener('load', finish, { once: true });
  img.addEventListener('error', finish, { once: true });
});
`

// cleanupScript strips the page down to the card. Arguments: card,
// hide selectors, unbackground selectors, action selector, active
// classes, overlay selector, overlay css, body scale.
const cleanupScript = `
var card = arguments[0];
var hide = arguments[1] || [];
var unbackground = arguments[2] || [];
var actionSelector = arguments[3];
var activeClasses = arguments[4] || [];
var overlaySelector = arguments[5];
var overlayCSS = arguments[6];
var scale = arguments[7];

card.style.border = 'none';

var css = '';
if (hide.length) css += hide.join(',') + '{display:none !important;}';
if (unbackground.length) css += unbackground.join(',') + '{background:none !important;}';
if (css) {
  var style = document.createElement('style');
  style.setAttribute('data-dynshot', 'cleanup');
  style.textContent = css;
  (document.head || document.documentElement).appendChild(style);
}

if (actionSelector) {
  document.querySelectorAll(actionSelector).forEach(function (el) {
    activeClasses.forEach(function (c) { el.classList.remove(c); });
  });
}

if (overlaySelector && overlayCSS) {
  document.querySelectorAll(overlaySelector).forEach(function (el) {
    el.style.cssText += ';' + overlayCSS;
  });
}

if (scale && scale !== 1) {
  document.body.style.scale = String(scale);
}
return true;
`
