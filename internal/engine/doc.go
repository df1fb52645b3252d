/*
Engine implements the execution loop shared by backtest and live runs.

# Module
  - clock: decides how far the feed may be read, so no event later than now reaches a strategy
  - feed: market events in non-decreasing timestamp order
  - broker port: simulated or live venue that turns accepted intents into fills
  - portfolio: authoritative account state, mutated only by this loop
  - audit log: append-only (order, fill, snapshot) records

# Source
 1. historical feed driven by the historical clock (backtest)
 2. live feed driven by the wall clock (paper and live trading)
 3. recorder WAL replay of captured live events

# Produce
  - order intents to the broker port
  - audit records and a published Status after every step

# Sharded
  - one engine goroutine per account
*/
package engine
