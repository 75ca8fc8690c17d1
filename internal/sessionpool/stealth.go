package sessionpool

import (
	"fmt"
	"math/rand"
)

// stealthScript returns a fresh anti-automation init script for a context,
// varying the canvas/WebGL noise per session so fingerprints don't collide
// across concurrently pooled sessions.
func stealthScript(rng *rand.Rand) string {
	noise := 0.0001 + rng.Float64()*0.0009
	vendor := webGLVendors[rng.Intn(len(webGLVendors))]
	renderer := webGLRenderers[rng.Intn(len(webGLRenderers))]

	return fmt.Sprintf(`
(function() {
	'use strict';

	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
		configurable: true
	});
	delete Navigator.prototype.webdriver;

	const originalGetOwnPropertyDescriptor = Object.getOwnPropertyDescriptor;
	Object.getOwnPropertyDescriptor = function(obj, prop) {
		if (prop === 'webdriver' && obj === navigator) {
			return undefined;
		}
		return originalGetOwnPropertyDescriptor.apply(this, arguments);
	};

	const automationProps = [
		'__webdriver_evaluate', '__selenium_evaluate', '__webdriver_script_function',
		'__webdriver_script_func', '__webdriver_script_fn', '__fxdriver_evaluate',
		'__driver_unwrapped', '__webdriver_unwrapped', '__driver_evaluate',
		'__selenium_unwrapped', '__fxdriver_unwrapped', '_Selenium_IDE_Recorder',
		'_selenium', 'calledSelenium', '$cdc_asdjflasutopfhvcZLmcfl_',
		'$chrome_asyncScriptInfo', '__$webdriverAsyncExecutor', 'webdriver',
		'__webdriverFunc', 'domAutomation', 'domAutomationController',
	];
	automationProps.forEach(function(prop) {
		try {
			if (window[prop]) delete window[prop];
			if (document[prop]) delete document[prop];
		} catch (e) {}
	});

	if (window.chrome === undefined) {
		window.chrome = { runtime: {} };
	}

	const origGetParameter = WebGLRenderingContext.prototype.getParameter;
	WebGLRenderingContext.prototype.getParameter = function(param) {
		if (param === 37445) return %q;
		if (param === 37446) return %q;
		return origGetParameter.apply(this, arguments);
	};

	const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
	CanvasRenderingContext2D.prototype.getImageData = function() {
		const data = origGetImageData.apply(this, arguments);
		for (let i = 0; i < data.data.length; i += 4) {
			data.data[i] = data.data[i] + (Math.random() * %f - %f / 2);
		}
		return data;
	};
})();
`, vendor, renderer, noise*255, noise*255)
}

var webGLVendors = []string{"Intel Inc.", "Google Inc.", "NVIDIA Corporation"}
var webGLRenderers = []string{
	"Intel Iris OpenGL Engine",
	"ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0)",
	"ANGLE (NVIDIA, NVIDIA GeForce GTX 1050 Direct3D11 vs_5_0 ps_5_0)",
}
