// Package mail holds the email plumbing shared by the inbound poller and
// the outbound dispatcher: MIME parsing, RFC 2822 message-id generation,
// subject normalization, Liquid template rendering, and the Provider
// abstraction with its SMTP/SendGrid/SES/Mailgun implementations.
package mail
