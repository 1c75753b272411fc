// Package services adapts voyage components to suture.Service.
//
// Each wrapper translates a component's own lifecycle (ListenAndServe and
// Shutdown, Start and Shutdown, a periodic tick) into a Serve(ctx) that
// blocks until ctx is canceled and then stops the component.
package services
