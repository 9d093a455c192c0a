/*
Package ddns keeps DNS A/AAAA records pointed at a machine's current
public IP addresses.

Usage will always start with [New],
which returns the DDNSClient implementation.
New requires the hostname whose records will be managed and a [Provider]
implementation for a DNS provider,
registered with an option such as [UsingDreamhost] or [UsingCloudflare].
Additional client configuration options are listed in the docs for New.

Each call to DDNSClient.RunDDNS performs one synchronization cycle:
resolve the current addresses,
list the provider's A/AAAA records for the hostname,
then remove or add records until the two sets match.
A cycle where the sets already match issues no record mutations.
*/
package ddns
