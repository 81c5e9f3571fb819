// Package engines provides the text extraction and speech synthesis
// services used by the history manager: a Gemini REST client and an offline
// mock.
package engines
