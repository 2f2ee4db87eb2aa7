// Package channel routes outbound agent replies to messaging providers.
// Concrete senders (WhatsApp, Telegram, Discord, Signal, iMessage) live
// outside the gateway; this package holds the adapter contract and the
// routing rules, most importantly the "last" provider resolution that
// refuses to reply into an unreachable or untrusted channel.
package channel
