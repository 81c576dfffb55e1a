// Command decklens recognizes card lists in screenshots and resolves every
// line against the card catalog.
//
// Common invocations:
//
//	decklens scan deck.png --variant deck-gray.png
//	decklens job status <job-id>
//	decklens resolve "Lightnin Bolt" "Fyre // Ice"
//	decklens retention sweep --dry-run
//	decklens breaker
//	decklens config init
package main
