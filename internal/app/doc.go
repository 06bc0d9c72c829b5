// Package app is the interactive terminal front end. It drives a
// pipeline.Controller, renders the live transcript and walks the user
// through choosing a destination for each recorded session.
package app
