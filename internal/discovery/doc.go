// ABOUTME: mDNS service discovery package
// ABOUTME: Discover and advertise Resonate servers on the local network
// Package discovery advertises Resonate servers over mDNS and lets players
// find them.
package discovery
