// Package translation implements the text translation collaborator as an HTTP
// client for LibreTranslate servers running Argos models.
package translation
