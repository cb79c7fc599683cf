// Package lane defines the persisted per-lane records and their key layout.
//
// Every record lives under lane/<id>/<kind> in the durable store:
//
//	lane/<id>/job      Job (cursor of the active run)
//	lane/<id>/run      RunState (running flags + progress mirror)
//	lane/<id>/lock     Lock (tick lease)
//	lane/<id>/quota    DailyCounter
//	lane/<id>/results  []Result
//	lane/<id>/tick     TickDeadline
//
// Lane ids are slugs, so "Platform A" and "platform-a" name the same lane.
package lane
