/*Package arrayrepr implements a compact, schema-tagged array representation
  of feature records.

  Instead of one object per feature with named fields, a set of "classes"
  is declared once, each listing attribute names in a fixed order.  A record
  is then encoded as

    [classIndex, field1, field2, ..., fieldN, {adHocName: value, ...}]

  where fieldK is the value of the K'th attribute of the class and the
  trailing object is present only when the record carries attributes that
  its class does not declare.  Classes may also carry a prototype with
  default values, and may flag attributes that hold nested record arrays
  (for example "Subfeatures" or "Sublist").

  For example, with classes

    [{"attributes": ["Start", "End", "Strand"]},
     {"attributes": ["Start", "End", "Chunk"]}]

  the records [0, 1, 10, 1] and [1, 20, 300, 7] describe a feature on the
  forward strand spanning [1, 10] and a placeholder for chunk 7 spanning
  [20, 300].

  Codec resolves attribute names to offsets.  Lookups are case-insensitive:
  an exact match wins, otherwise the lowercased name is tried.
*/
package arrayrepr
