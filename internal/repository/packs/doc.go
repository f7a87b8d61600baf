// Package packs stores installed pack and manifest content and the per-band
// references that keep it alive.
//
// Content is shared by every feature band of an install context. Each band
// that needs a pack or manifest holds a reference to it; garbage collection
// deletes content once the last reference is gone. Content written by the
// stores also has an install record, so content that lost its references
// outside a collection is still found.
package packs
